package field

import "strings"

const (
	// DatasourceSeparator separates datasource and raw ID / property path.
	DatasourceSeparator = "/"
	// PropertySeparator separates nested property path segments.
	PropertySeparator = ":"
)

// CreateCombinedID joins a datasource ID and a raw ID or property path.
// An empty datasource yields the raw ID unchanged.
func CreateCombinedID(datasourceID, rawID string) string {
	if datasourceID == "" {
		return rawID
	}
	return datasourceID + DatasourceSeparator + rawID
}

// SplitCombinedID splits a combined ID at the first separator. IDs without a
// separator have no datasource.
func SplitCombinedID(combinedID string) (datasourceID, rawID string) {
	if i := strings.Index(combinedID, DatasourceSeparator); i >= 0 {
		return combinedID[:i], combinedID[i+1:]
	}
	return "", combinedID
}

// SplitPropertyPath splits a property path. With separateLast the path is
// split at its last separator into (parent, last); otherwise at the first
// separator into (first, rest). The missing half is "".
func SplitPropertyPath(path string, separateLast bool) (string, string) {
	if separateLast {
		i := strings.LastIndex(path, PropertySeparator)
		if i < 0 {
			return "", path
		}
		return path[:i], path[i+1:]
	}
	i := strings.Index(path, PropertySeparator)
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}
