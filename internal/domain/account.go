package domain

import "time"

// DefaultProcessedSalesLimit 每个平台去重列表默认保留条数
const DefaultProcessedSalesLimit = 500

// Account 交易所账号聚合根（一次加载即包含全部平台设置与用户设置）
type Account struct {
	Username     string                               `json:"username"`
	Identity     string                               `json:"identity,omitempty"` // 平台侧账号 ID（登录后获得）
	RefreshToken string                               `json:"refresh_token,omitempty"`
	ProxyURL     string                               `json:"proxy_url,omitempty"`
	AvatarURL    string                               `json:"avatar_url,omitempty"`
	Marketplaces map[Marketplace]*MarketplaceSettings `json:"marketplaces"`
	User         UserSettings                         `json:"user"`
	CreatedAt    time.Time                            `json:"created_at"`
	UpdatedAt    time.Time                            `json:"updated_at"`
}

// MarketplaceSettings 单个平台设置
type MarketplaceSettings struct {
	APIKey  string `json:"api_key"`
	Running bool   `json:"running"`  // 连接器是否在运行
	CanSell bool   `json:"can_sell"` // 平台在线探测结果，不等于 Running
	// ProcessedSales 已处理的平台销售 ID（去重集合，不是审计日志）
	ProcessedSales []string `json:"processed_sales,omitempty"`
}

// UserSettings 用户设置
type UserSettings struct {
	GiftAutoAccept    bool   `json:"gift_auto_accept"`
	PendingTradesPath string `json:"pending_trades_path,omitempty"`
}

// NewAccount 创建带默认设置的账号
func NewAccount(username string) *Account {
	now := time.Now()
	a := &Account{
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.EnsureDefaults()
	return a
}

// EnsureDefaults 为缺失的子记录补默认值（显式聚合加载）
func (a *Account) EnsureDefaults() {
	if a.Marketplaces == nil {
		a.Marketplaces = make(map[Marketplace]*MarketplaceSettings, 4)
	}
	for _, m := range AllMarketplaces() {
		if a.Marketplaces[m] == nil {
			a.Marketplaces[m] = &MarketplaceSettings{}
		}
	}
}

// Settings 获取平台设置（保证非 nil）
func (a *Account) Settings(m Marketplace) *MarketplaceSettings {
	a.EnsureDefaults()
	s, ok := a.Marketplaces[m]
	if !ok {
		s = &MarketplaceSettings{}
		a.Marketplaces[m] = s
	}
	return s
}

// Clone 深拷贝（用于持久化快照与对外暴露）
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Marketplaces = make(map[Marketplace]*MarketplaceSettings, len(a.Marketplaces))
	for m, s := range a.Marketplaces {
		if s == nil {
			continue
		}
		cp := *s
		cp.ProcessedSales = append([]string(nil), s.ProcessedSales...)
		out.Marketplaces[m] = &cp
	}
	return &out
}

// HasProcessedSale 销售 ID 是否已处理
func (s *MarketplaceSettings) HasProcessedSale(saleID string) bool {
	for _, id := range s.ProcessedSales {
		if id == saleID {
			return true
		}
	}
	return false
}

// AddProcessedSale 追加销售 ID；已存在返回 false。超过 limit 时丢弃最旧的。
func (s *MarketplaceSettings) AddProcessedSale(saleID string, limit int) bool {
	if saleID == "" || s.HasProcessedSale(saleID) {
		return false
	}
	if limit <= 0 {
		limit = DefaultProcessedSalesLimit
	}
	s.ProcessedSales = append(s.ProcessedSales, saleID)
	if over := len(s.ProcessedSales) - limit; over > 0 {
		s.ProcessedSales = append([]string(nil), s.ProcessedSales[over:]...)
	}
	return true
}
