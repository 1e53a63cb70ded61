// Package logx is jobvisor's structured logging on top of zerolog.
//
// Console output is human readable with a short file:line caller; the optional
// log file is JSON. Level and sinks follow config reloads through Service.Apply.
package logx
