//go:build linux

package main

import (
	"spihal/backend/rpi"
	"spihal/config"
	"spihal/hal"
)

func init() {
	platformBackends["rpi"] = func(*config.Config) hal.Ops {
		return rpi.New()
	}
}
