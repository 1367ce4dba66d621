package config

import "time"

const (
	defaultCacheTTL       = 60 * time.Second
	defaultPortDeadline   = 2 * time.Second
	defaultSessionBackoff = 5 * time.Second
)

var defaultStarvation = StarvationTimeouts{
	High:   10 * time.Second,
	Medium: 30 * time.Second,
	Low:    60 * time.Second,
}
