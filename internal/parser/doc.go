// Package parser holds the HTML extraction strategies for listing and detail
// pages. Every cascade is an ordered slice; the first strategy that yields a
// qualifying result wins.
package parser
