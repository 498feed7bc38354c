package kvsink

import "fmt"

// Key prefixes and builders. Trial indices are zero-padded to keep
// lexicographic badger-key order equal to trial order; the width covers
// trial indices up to 99,999,999, far past any realistic single run.
const trialIndexWidth = 8

func attrsKey(trialIndex int) []byte {
	return []byte(fmt.Sprintf("trial/%0*d/attrs", trialIndexWidth, trialIndex))
}

func numericKey(trialIndex int, name string) []byte {
	return []byte(fmt.Sprintf("trial/%0*d/numeric_events/%s", trialIndexWidth, trialIndex, name))
}

func textKey(trialIndex int, name string) []byte {
	return []byte(fmt.Sprintf("trial/%0*d/text_events/%s", trialIndexWidth, trialIndex, name))
}

func signalKey(trialIndex int, name string) []byte {
	return []byte(fmt.Sprintf("trial/%0*d/signals/%s", trialIndexWidth, trialIndex, name))
}

// trialPrefix returns the key prefix spanning every key belonging to one
// trial, for diagnostics and bulk-delete use.
func trialPrefix(trialIndex int) []byte {
	return []byte(fmt.Sprintf("trial/%0*d/", trialIndexWidth, trialIndex))
}
