// Package config loads the localdocs CLI configuration with viper.
package config
