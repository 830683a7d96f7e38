// Package dom implements static inspection of page markup for structural
// threats: hidden instruction text, credential-harvesting forms, hostile
// iframes, obfuscated inline scripts, and deceptive overlays.
//
// The analyzer never executes scripts and never performs layout. Style
// decisions are lexical, read from inline style attributes and <style>
// blocks only. A single parse also yields the visible/hidden text split
// that the downstream text classifier and reasoner consume.
package dom
