package exchange

import (
	"fmt"
	"strings"

	"cryptoarb/internal/config"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"okx",
	"bybit",
	"htx",
}

// New создает адаптер биржи по имени
func New(name string, cfg config.ExchangeConfig) (Exchange, error) {
	switch strings.ToLower(name) {
	case "okx":
		return NewOKX(cfg.APIKey, cfg.APISecret, cfg.Passphrase, cfg.TakerFee, cfg.MakerFee), nil
	case "bybit":
		return NewBybit(cfg.APIKey, cfg.APISecret, cfg.TakerFee, cfg.MakerFee), nil
	case "htx":
		return NewHTX(cfg.APIKey, cfg.APISecret, cfg.TakerFee, cfg.MakerFee), nil
	case "paper":
		return NewPaper("paper", cfg.TakerFee, cfg.MakerFee, nil), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
