// Package config loads and validates flowcanvas configuration.
//
// Configuration comes from YAML (or JSON) files layered over Default(),
// then environment overrides prefixed FLOWCANVAS_. Decoding is strict:
// unknown keys are errors.
//
//	loader := config.NewLoader()
//	loader.AddLayer("flowcanvas.yaml")
//	loader.AddLayer("flowcanvas.local.yaml") // overrides the first
//	cfg, err := loader.Load()
//
// SafeConfig guards a Config shared between goroutines; Get hands out deep
// copies. Manager mirrors the reloadable sections (log, validator, preview,
// branch) into a NATS key-value bucket, one key per section, and applies
// edits made there at runtime:
//
//	m := config.NewManager(cfg, kv, logger)
//	if err := m.Start(ctx); err != nil {
//	    return err
//	}
//	defer m.Stop()
//	for u := range m.OnChange("log") {
//	    level.Set(u.Config.Log.SlogLevel())
//	}
package config
