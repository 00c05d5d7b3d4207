// Package logx configures pulsebot's structured logging.
//
// Logger is a small value type over zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON lines
//   - An optional operator sink forwards warnings to a chat, rate limited
package logx
