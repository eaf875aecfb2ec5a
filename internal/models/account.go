package models

import (
	"fmt"
	"net/url"
	"strconv"
)

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// BaseURL returns the REST endpoint of the network, empty for unknown networks.
func (n Network) BaseURL() string {
	switch n {
	case NetworkMainnet:
		return "https://mainnet.zklighter.elliot.ai"
	case NetworkTestnet:
		return "https://testnet.zklighter.elliot.ai"
	default:
		return ""
	}
}

func (n Network) Valid() bool { return n.BaseURL() != "" }

// ProxyConfig: entry of proxy_pool. Username and Password come together or not at all.
type ProxyConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (p ProxyConfig) HasAuth() bool { return p.Username != "" && p.Password != "" }

func (p ProxyConfig) URL() string {
	u := url.URL{Scheme: "http", Host: p.Host + ":" + strconv.Itoa(p.Port)}
	if p.HasAuth() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// AccountCredential is immutable after load; AccountName is the unique key.
type AccountCredential struct {
	AccountName  string  `yaml:"account_name"`
	APIKey       string  `yaml:"api_key"`
	AccountIndex int64   `yaml:"account_index"`
	APIKeyIndex  uint8   `yaml:"api_key_index"`
	Network      Network `yaml:"network"`
	Proxy        string  `yaml:"proxy"`
	// SignerURL: адрес sidecar-подписчика транзакций для этого аккаунта.
	SignerURL string `yaml:"signer_url"`
}

func (a AccountCredential) String() string {
	return fmt.Sprintf("%s(account=%d key=%d %s)", a.AccountName, a.AccountIndex, a.APIKeyIndex, a.Network)
}

type HedgePairConfig struct {
	PairName     string `yaml:"pair_name"`
	LongAccount  string `yaml:"long_account"`
	ShortAccount string `yaml:"short_account"`
}

// PairID is the runtime identity of a hedge pair: "{long}-{short}".
func (c HedgePairConfig) PairID() string { return c.LongAccount + "-" + c.ShortAccount }
