// Package mounts assembles the concrete mount implementations behind a
// single factory table keyed by the mount kind named in configuration.
package mounts

import (
	"fmt"
	"strconv"

	"github.com/arborstore/arbor/pkg/config"
	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/mounts/aimount"
	"github.com/arborstore/arbor/pkg/mounts/cronmount"
	"github.com/arborstore/arbor/pkg/mounts/dingtalkmount"
	"github.com/arborstore/arbor/pkg/mounts/discordmount"
	"github.com/arborstore/arbor/pkg/mounts/larkmount"
	"github.com/arborstore/arbor/pkg/mounts/netmount"
	"github.com/arborstore/arbor/pkg/mounts/qqmount"
	"github.com/arborstore/arbor/pkg/mounts/slackmount"
	"github.com/arborstore/arbor/pkg/mounts/sqlitemount"
	"github.com/arborstore/arbor/pkg/mounts/telegrammount"
	"github.com/arborstore/arbor/pkg/runtime"
	"github.com/arborstore/arbor/pkg/vstore"
)

// DefaultFactories returns the factory table for every mount kind this
// build ships. store is the dispatcher inbound events re-enter through.
func DefaultFactories(store *vstore.Dispatcher) map[string]runtime.MountFactory {
	return map[string]runtime.MountFactory{
		"sqlite": func(def config.MountDef) (vstore.Mount, error) {
			dsn := def.Settings["dsn"]
			if dsn == "" {
				return nil, fmt.Errorf("mounts: sqlite mount %q needs a dsn", def.Name)
			}
			return sqlitemount.New(def.Name, def.From, dsn)
		},
		"cron": func(def config.MountDef) (vstore.Mount, error) {
			m := cronmount.New(def.Name, def.From, store)
			for name, expr := range def.Settings {
				if err := m.Add(name, expr); err != nil {
					return nil, err
				}
			}
			return m, nil
		},
		"net": func(def config.MountDef) (vstore.Mount, error) {
			url := def.Settings["url"]
			if url == "" {
				return nil, fmt.Errorf("mounts: net mount %q needs a url", def.Name)
			}
			return netmount.New(def.Name, def.From, url, store), nil
		},
		"ai": func(def config.MountDef) (vstore.Mount, error) {
			cfg := aimount.BackendConfig{
				APIKey:  def.Settings["api_key"],
				APIBase: def.Settings["api_base"],
				Model:   def.Settings["model"],
			}
			var (
				synth aimount.Synthesizer
				kind  domain.ProviderType
			)
			switch def.Settings["backend"] {
			case "openai":
				synth = aimount.NewOpenAISynthesizer(cfg)
				kind = domain.ProviderOpenAI
			default:
				synth = aimount.NewAnthropicSynthesizer(cfg)
				kind = domain.ProviderAnthropic
			}
			backend := aimount.NewBackend(def.Name, kind, cfg)
			return aimount.New(def.Name, def.From, backend, synth), nil
		},
		"discord": func(def config.MountDef) (vstore.Mount, error) {
			return discordmount.New(def.Name, def.From, def.Settings["token"], def.Settings["guild"], store)
		},
		"slack": func(def config.MountDef) (vstore.Mount, error) {
			return slackmount.New(def.Name, def.From, def.Settings["token"]), nil
		},
		"telegram": func(def config.MountDef) (vstore.Mount, error) {
			return telegrammount.New(def.Name, def.From, def.Settings["token"], nil)
		},
		"lark": func(def config.MountDef) (vstore.Mount, error) {
			return larkmount.New(def.Name, def.From, def.Settings["app_id"], def.Settings["app_secret"], nil), nil
		},
		"dingtalk": func(def config.MountDef) (vstore.Mount, error) {
			return dingtalkmount.New(def.Name, def.From, def.Settings["client_id"], def.Settings["client_secret"], store), nil
		},
		"qq": func(def config.MountDef) (vstore.Mount, error) {
			appID, err := strconv.ParseUint(def.Settings["app_id"], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("mounts: qq mount %q app_id: %w", def.Name, err)
			}
			return qqmount.New(def.Name, def.From, appID, def.Settings["token"], def.Settings["guild"]), nil
		},
	}
}
