// Package util provides small shared helpers for string handling that do
// not belong to any domain package.
package util
