//go:build !frontierdebug

package balancer

const debugAssertions = false
