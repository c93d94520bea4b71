// Package acceptance holds the godog feature suite for scanning, patching,
// the link rule and report replay. Features live under features/.
package acceptance
