// Package main is the entry point for the company chat service.
//
//	company-chat            # HTTP API on :8080
//	company-chat chat       # interactive terminal chat
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/company-chat/cmd/company-chat/app"
)

func main() {
	app.NewApp().Run()
}
