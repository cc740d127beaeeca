package main

import "time"

// RunFlags decouple cobra from the run logic for testing. Zero values mean
// "not given"; only flags the user set override the config file.
type RunFlags struct {
	ConfigPath  string
	Interval    time.Duration
	Sample      time.Duration
	Capacity    int
	Strict      bool
	QuotePolicy string
	History     string
	Listen      string
	BasePath    string
	JSON        bool
	LogLevel    string
}

type ParseFlags struct {
	QuotePolicy string
	Quotes      string
}
