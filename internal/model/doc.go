// Package model defines the projected water-grant entities and the
// block-range validity interval every stored version carries.
//
// This package contains type definitions only. It imports nothing internal
// except address, so every other package can depend on it.
package model
