// Package config loads the device manager configuration.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file, then DEVMGR_* environment variables. Load validates the result
// and reports every problem in a single error.
//
// The secrets passphrase and salt derive the key every stored pre-shared key
// is encrypted with. Supply them through DEVMGR_SECRETS_PASSPHRASE and
// DEVMGR_SECRETS_SALT rather than the file, and never change them on a
// populated database.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
