package errors

import "net/http"

// 会话服务错误码: 20 (业务服务范围 20-79)

var (
	// 请求参数错误 (类别 01)
	ErrInvalidTurn = Register(New(MakeCode(ServiceChat, CategoryRequest, 1), http.StatusBadRequest,
		"Invalid turn", "无效的对话请求"))

	// 资源错误 (类别 04)
	ErrSessionNotFound = Register(New(MakeCode(ServiceChat, CategoryResource, 1), http.StatusNotFound,
		"Session not found", "会话不存在"))
	ErrNoTextFound = Register(New(MakeCode(ServiceChat, CategoryResource, 2), http.StatusUnprocessableEntity,
		"No readable text found", "未识别到可读文本"))

	// 外部调用失败 (类别 07 / 10)
	ErrExtraction = Register(New(MakeCode(ServiceChat, CategoryInternal, 1), http.StatusUnprocessableEntity,
		"Document extraction failed", "文档解析失败"))
	ErrPromptOverBudget = Register(New(MakeCode(ServiceChat, CategoryInternal, 2), http.StatusInternalServerError,
		"Prompt exceeds context budget", "提示超出上下文预算"))
	ErrSearch = Register(New(MakeCode(ServiceChat, CategoryNetwork, 1), http.StatusBadGateway,
		"Search is temporarily unavailable", "搜索服务暂不可用"))
	ErrModel = Register(New(MakeCode(ServiceChat, CategoryNetwork, 2), http.StatusBadGateway,
		"Language model unavailable", "语言模型不可用"))

	// 配置错误 (类别 12)
	ErrConfiguration = Register(New(MakeCode(ServiceChat, CategoryConfig, 1), http.StatusInternalServerError,
		"Configuration error", "配置错误"))
)
