// Package logx is a thin structured-logging facade over zerolog.
//
// It keeps call sites free of zerolog specifics and gives the app a
// single place to reconfigure sinks and level at runtime.
package logx
