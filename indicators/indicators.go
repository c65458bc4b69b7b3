// Package indicators provides technical analysis indicators over closing
// price series. Series are ordered oldest first.
package indicators
