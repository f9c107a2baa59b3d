package domain

import (
	"errors"

	sdkhttp "github.com/betbot/tradelink/pkg/sdk/http"
)

// 交易所/平台远端错误分类（与 HTTP 客户端的分类共用同一组哨兵）
var (
	// ErrUnauthorized 凭证被拒绝（API key 失效、refresh token 过期等），不可重试
	ErrUnauthorized = sdkhttp.ErrUnauthorized
	// ErrRateLimited 触发限流
	ErrRateLimited = sdkhttp.ErrRateLimited
	// ErrTransient 网络抖动/5xx 等可重试错误
	ErrTransient = sdkhttp.ErrTransient
	// ErrItemsUnavailable 报价中的物品已不可交易
	ErrItemsUnavailable = errors.New("items unavailable")
	// ErrOfferNotFound 报价不存在
	ErrOfferNotFound = errors.New("trade offer not found")
	// ErrNotFound 通用资源不存在
	ErrNotFound = sdkhttp.ErrNotFound
)

// 本地状态错误
var (
	ErrNotAuthenticated    = errors.New("exchange session not authenticated")
	ErrAccountNotFound     = errors.New("account not found")
	ErrCoordinatorNotFound = errors.New("coordinator not found")
	ErrMissingAPIKey       = errors.New("marketplace api key is empty")
	ErrUnknownMarketplace  = errors.New("unknown marketplace")
)
