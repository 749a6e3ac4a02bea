// Package fetch downloads external wake word models announced by the controller.
package fetch
