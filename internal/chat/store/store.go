package store

import (
	"context"

	"github.com/kart-io/company-chat/internal/model"
)

// SessionStore 定义会话存储接口。会话只在进程内存在，不做持久化。
type SessionStore interface {
	// Create 创建新会话。
	Create(ctx context.Context) (*model.Session, error)

	// Get 获取会话，不存在时返回 errno.ErrSessionNotFound。
	Get(ctx context.Context, id string) (*model.Session, error)

	// Delete 删除会话，不存在时返回 errno.ErrSessionNotFound。
	Delete(ctx context.Context, id string) error

	// List 按创建时间返回全部会话。
	List(ctx context.Context) ([]*model.Session, error)

	// Count 返回当前会话数。
	Count() int
}
