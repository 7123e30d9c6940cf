package chain

import jsoniter "github.com/json-iterator/go"

// json is jsoniter in its stdlib-compatible configuration: sorted map keys,
// declared struct field order - the canonical, stable encoding needed so
// that the same payload sequence always hashes identically.
var json = jsoniter.ConfigCompatibleWithStandardLibrary
