package provider

import "fmt"

// DispatchErrorKind is the closed set of dispatch failure categories.
// Every provider response is normalized into one of these immediately
// after the network call; nothing downstream sees raw provider errors.
type DispatchErrorKind string

const (
	// DispatchInvalidModel: the model is unknown to or rejected by the provider.
	DispatchInvalidModel DispatchErrorKind = "invalid_model"
	// DispatchNetworkFailure: transport-level failure, no response received.
	DispatchNetworkFailure DispatchErrorKind = "network_failure"
	// DispatchProviderError: the provider responded with a non-success
	// status, or the request could not be formed in the first place.
	DispatchProviderError DispatchErrorKind = "provider_error"
	// DispatchEmptyResponse: success status but no usable content.
	DispatchEmptyResponse DispatchErrorKind = "empty_response"
)

// DispatchError is a normalized completion failure.
type DispatchError struct {
	Kind    DispatchErrorKind
	Message string
	Status  int // HTTP status when one was received, else 0
}

func (e *DispatchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("dispatch: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Message)
}

// CatalogErrorKind categorizes model catalog failures.
type CatalogErrorKind string

const (
	// CatalogUnauthenticated: provider credential missing or invalid.
	CatalogUnauthenticated CatalogErrorKind = "unauthenticated"
	// CatalogUnavailable: transport or service failure.
	CatalogUnavailable CatalogErrorKind = "unavailable"
)

// CatalogError is a normalized model catalog failure.
type CatalogError struct {
	Kind    CatalogErrorKind
	Message string
	Status  int
}

func (e *CatalogError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("catalog: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("catalog: %s: %s", e.Kind, e.Message)
}
