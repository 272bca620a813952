package main

import (
	"encoding/json"
	"os"

	"github.com/omeid/uconfig"
)

// configFilename is the filename of the config file automatically loaded.
var configFilename = "config.json"

type config struct {
	HTTP struct {
		Port string `default:"8080"`

		RateLimInterval       string `default:"1s"`
		MaxRequestPerInterval uint64 `default:"10"`
	}
	Metrics struct {
		Port string `default:"9090"`
	}
	Log struct {
		Human bool `default:"false"`
		Debug bool `default:"false"`
	}
	DB struct {
		Path string `default:"txgateway.db"`
	}
	PendingTx struct {
		DurationLimit string `default:"3m"`
		Retention     string `default:"24h"`
	}
	Chains []ChainConfig
}

// ChainConfig contains the configuration of one (chain, network) stack.
type ChainConfig struct {
	Name       string `default:"ethereum"`
	Network    string `default:"mainnet"`
	ChainID    int64  `default:"1"`
	Endpoint   string `default:""`
	WsEndpoint string `default:""`
	Signer     struct {
		PrivateKey string `default:""`
	}
	GasPrice struct {
		TTL               string `default:"15s"`
		RefreshInterval   string `default:"0s"`
		Min               string `default:"0"`
		AdjustmentPercent int64  `default:"100"`
	}
}

func setupConfig() *config {
	conf := &config{}
	confFiles := uconfig.Files{
		{configFilename, json.Unmarshal},
	}

	c, err := uconfig.Classic(&conf, confFiles)
	if err != nil {
		c.Usage()
		os.Exit(1)
	}

	return conf
}
