package x402

// findByNetworkAndScheme finds a scheme implementation for a given network/scheme combination
// This supports pattern matching for networks (e.g., "eip155:*" or "*")
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) T {
	var zero T

	// Try exact match first
	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl
		}
	}

	// Try pattern matching, most specific patterns first
	for _, wildcardOnly := range []bool{false, true} {
		for registeredNetwork, schemeMap := range networkMap {
			if (registeredNetwork == "*") != wildcardOnly {
				continue
			}
			if network.Match(registeredNetwork) {
				if impl, exists := schemeMap[scheme]; exists {
					return impl
				}
			}
		}
	}

	return zero
}
