// Package builtins provides the tools every server registers at startup.
//
// # Base Pack
//
//   - echo: return the msg argument
//   - clock: current time, optionally in an IANA timezone
//   - sleep: wait for a number of seconds (honors cancellation)
//   - digest: SHA-256 of a text argument (runs on the blocking pool)
//
// Register them with:
//
//	builtins.RegisterBasePack(registry)
//
// The pack is skipped when tools.builtins is false in the server config.
package builtins
