package classifier

import (
	"fmt"

	"github.com/kamilpajak/testmend/internal/rules"
	"github.com/kamilpajak/testmend/pkg/models"
)

// Suggest returns a remediation hint for an analysis.
func Suggest(a models.FailureAnalysis) string {
	d := a.Detail
	switch a.Kind {
	case models.FailureFieldMissing:
		for _, ch := range a.RelatedChanges {
			if ch.Kind == models.ChangePropertyAdded && ch.Field != "" && ch.Field != d.Field {
				return fmt.Sprintf("Field may have been renamed to '%s'; update the assertion", ch.Field)
			}
		}
		if d.Field != "" {
			return fmt.Sprintf("Update assertions on '%s' to match the current response schema", d.Field)
		}
		return "Compare the response body against the current API specification"
	case models.FailureTypeMismatch:
		if d.ActualType != "" {
			return fmt.Sprintf("Update the expected type to %s or convert the value before asserting", d.ActualType)
		}
		return "Align type assertions with the current schema"
	case models.FailureStatusCodeChanged:
		if reason, ok := rules.StatusTransition(d.ExpectedStatus, d.ActualStatus); ok {
			return fmt.Sprintf("Expect status %d: %s", d.ActualStatus, reason)
		}
		if d.ActualStatus != 0 {
			return fmt.Sprintf("Check whether status %d is the intended response and update the expectation", d.ActualStatus)
		}
		return "Check the status codes documented for this endpoint"
	case models.FailureEndpointNotFound:
		for _, ch := range a.RelatedChanges {
			if ch.Kind == models.ChangeEndpointAdded && ch.Endpoint != "" {
				return fmt.Sprintf("Endpoint may have moved to %s", ch.Endpoint)
			}
		}
		return "Verify the request path against the current API specification"
	case models.FailureSchemaValidation:
		return "Regenerate expected payloads from the current schema"
	case models.FailureAuth:
		return "Check credentials and the security requirements of the endpoint"
	case models.FailureTimeout:
		return "Check service health or raise the timeout; this is rarely a contract change"
	case models.FailureNetwork:
		return "Check that the service under test is reachable"
	case models.FailureSelectorNotFound, models.FailureSelectorChanged:
		return "Update the locator to match the current page"
	case models.FailureNavigation:
		return "Check the target URL and that the application is serving it"
	case models.FailureValidation:
		return "Review the asserted value against current behavior"
	default:
		return "Inspect the failure output manually"
	}
}
