// Package rockchip implements mpp.Platform over the native Rockchip MPP
// library (librockchip_mpp.so), loaded at runtime with purego; no cgo is
// involved.
//
// The library is searched in $MPP_LIB_PATH first, then by the usual
// dynamic linker rules.
package rockchip
