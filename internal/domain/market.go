package domain

import (
	"fmt"
	"strings"
)

// Marketplace 第三方转售平台标识
type Marketplace string

const (
	MarketplaceA Marketplace = "marketa"
	MarketplaceB Marketplace = "marketb"
	MarketplaceC Marketplace = "marketc"
	MarketplaceD Marketplace = "marketd"
)

// AllMarketplaces 返回全部已知平台（固定顺序）
func AllMarketplaces() []Marketplace {
	return []Marketplace{MarketplaceA, MarketplaceB, MarketplaceC, MarketplaceD}
}

// IsValid 是否为已知平台
func (m Marketplace) IsValid() bool {
	switch m {
	case MarketplaceA, MarketplaceB, MarketplaceC, MarketplaceD:
		return true
	}
	return false
}

func (m Marketplace) String() string { return string(m) }

// ParseMarketplace 解析平台名（大小写不敏感）
func ParseMarketplace(s string) (Marketplace, error) {
	m := Marketplace(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMarketplace, s)
	}
	return m, nil
}
