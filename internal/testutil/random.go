package testutil

import (
	"fmt"
	"math/rand"
)

// RandomSwitch returns a function that will output various integers at different weights.
//
// Ex. RandomSwitch(2, 3, 5) will return a function that will output:
//   - `0` 20% of the time
//   - `1` 30% of the time
//   - `2` 50% of the time
func RandomSwitch(weights ...int) func(rndm *rand.Rand) int {
	if len(weights) == 0 {
		panic("a random switch must have at least 1 probability")
	}

	var sum int
	for _, p := range weights {
		if p <= 0 {
			panic("weights must be positive")
		}
		sum += p
	}

	return func(rndm *rand.Rand) int {
		value := rndm.Intn(sum)
		for i, w := range weights {
			if value < w {
				return i
			}
			value -= w
		}
		panic(fmt.Sprintf("random value generated was out of bounds: %d", value))
	}
}

// RandomSlug generates a random lowercase slug like "abcd-efgh".
func RandomSlug(rndm *rand.Rand, length int) string {
	str := make([]rune, length)
	for i := range length {
		if i > 0 && i%5 == 4 {
			str[i] = '-'
			continue
		}
		str[i] = 'a' + rune(rndm.Intn(26))
	}
	return string(str)
}
