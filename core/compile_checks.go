package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ ConfigProvider  = (*CfgxConfigProvider)(nil)
	_ OptionsResolver = GoOptionsResolver{}
	_ RawConfigLoader = ChainLoader{}
	_ RawConfigLoader = EnvLoader{}
	_ RawConfigLoader = YAMLFileLoader{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
