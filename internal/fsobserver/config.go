package fsobserver

import "knowledgebase/internal/config"

// FromConfig builds the Config fsobserver.New expects from the process
// configuration's Root path and FSObserver subsystem settings.
func FromConfig(cfg config.Config) Config {
	return Config{
		Root:           cfg.RootPath,
		DebounceWindow: cfg.FSObserver.DebounceWindow,
		IgnorePatterns: cfg.FSObserver.IgnorePatterns,
	}
}
