//go:build race

package param

// sync.Pool drops items at random under the race detector
const raceEnabled = true
