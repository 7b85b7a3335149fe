// Package post applies local transformations to the formatting
// server's output before it is written: a YAML-defined list of regex
// substitution rules, then an optional Lua hook. Both run inside the
// worker pool and must stay pure text-to-text functions; anything that
// touches the filesystem belongs elsewhere.
package post
