// Package funds - роутер межбиржевых переводов: выбор сети, вывод
// средств на депозитный адрес целевой биржи и отслеживание статуса
// до терминального исхода.
package funds

// preferredNetworks - сеть вывода по умолчанию для валюты.
// Для стейблкоинов выбирается самая дешёвая из широко поддерживаемых.
var preferredNetworks = map[string]string{
	"USDT": "TRC20",
	"USDC": "TRC20",
	"BTC":  "BTC",
	"ETH":  "ERC20",
	"BNB":  "BEP20",
	"XRP":  "XRP",
	"SOL":  "SOL",
	"ADA":  "ADA",
	"DOGE": "DOGE",
	"DOT":  "DOT",
	"LTC":  "LTC",
	"TRX":  "TRC20",
	"ATOM": "ATOM",
	"XLM":  "XLM",
}

// networkFees - типовые комиссии сетей в единицах валюты.
// Биржи берут фиксированную комиссию вывода близкую к сетевой;
// точное значение подставляется из ответа биржи, когда оно известно.
var networkFees = map[string]map[string]float64{
	"USDT": {"TRC20": 1, "ERC20": 10, "BEP20": 0.8},
	"USDC": {"TRC20": 1, "ERC20": 10, "BEP20": 0.8},
	"BTC":  {"BTC": 0.0003},
	"ETH":  {"ERC20": 0.002, "BEP20": 0.0005},
	"BNB":  {"BEP20": 0.0005},
	"XRP":  {"XRP": 0.25},
	"SOL":  {"SOL": 0.01},
	"ADA":  {"ADA": 1},
	"DOGE": {"DOGE": 4},
	"DOT":  {"DOT": 0.1},
	"LTC":  {"LTC": 0.001},
	"TRX":  {"TRC20": 1},
	"ATOM": {"ATOM": 0.01},
	"XLM":  {"XLM": 0.02},
}

// PreferredNetwork возвращает сеть вывода для валюты.
// Пустая строка означает, что перевод валюты не поддерживается.
func PreferredNetwork(currency string) string {
	return preferredNetworks[currency]
}

// NetworkFee возвращает ожидаемую комиссию вывода валюты в сети
func NetworkFee(currency, network string) (float64, bool) {
	fees, ok := networkFees[currency]
	if !ok {
		return 0, false
	}
	fee, ok := fees[network]
	return fee, ok
}

// CheapestNetwork возвращает самую дешёвую известную сеть вывода валюты
func CheapestNetwork(currency string) (string, float64, bool) {
	fees, ok := networkFees[currency]
	if !ok || len(fees) == 0 {
		return "", 0, false
	}
	var bestNetwork string
	var bestFee float64
	for network, fee := range fees {
		if bestNetwork == "" || fee < bestFee {
			bestNetwork = network
			bestFee = fee
		}
	}
	return bestNetwork, bestFee, true
}
