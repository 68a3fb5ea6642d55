/*
Package log provides structured logging for Tempo using zerolog.

The root logger is a no-op until Init configures it, so the kernel can
be embedded in applications that own their logging. Levels are zerolog's
own names and are scoped to the root logger rather than zerolog's global
state. Child loggers carry the executive name, component, or run
identity so interleaved output from parallel executives stays traceable.

# Usage

	import "github.com/cuemby/tempo/pkg/log"

	log.Init(log.Config{Level: "debug", JSON: true})

	logger := log.WithExecutive("exec-a")
	logger.Info().Time("now", now).Msg("Clock advanced")

Console output (the default) is meant for interactive demo runs; JSON
output is for harnesses that post-process run logs.
*/
package log
