// Package logx is a thin structured-logging wrapper around zerolog.
//
// It exists so components depend on a small, stable API (Logger + Field
// helpers) while sink wiring (console, file, levels) stays swappable at
// runtime via Service.Apply.
package logx
