package main

import "errors"

var errUnsupportedPlatform = errors.New("not supported on this platform")
