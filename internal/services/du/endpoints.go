package du

import (
	"net/url"
	"strings"
)

// Endpoint is a path template relative to the service base URL. The
// {project}, {module} and {operation} placeholders are path-escaped on
// expansion.
type Endpoint string

const (
	DigitizeStart                  Endpoint = "{project}/digitization/start?api-version=1"
	DigitizeResult                 Endpoint = "{project}/digitization/result/{operation}?api-version=1.1"
	ClassifyStart                  Endpoint = "{project}/classifiers/{module}/classification/start?api-version=1.1"
	ClassifyResult                 Endpoint = "{project}/classifiers/{module}/classification/result/{operation}?api-version=1.1"
	ExtractStart                   Endpoint = "{project}/extractors/{module}/extraction/start?api-version=1"
	ExtractResult                  Endpoint = "{project}/extractors/{module}/extraction/result/{operation}?api-version=1.1"
	ClassificationValidationStart  Endpoint = "{project}/classifiers/{module}/validation/start?api-version=1.1"
	ClassificationValidationResult Endpoint = "{project}/classifiers/{module}/validation/result/{operation}?api-version=1.1"
	ExtractionValidationStart      Endpoint = "{project}/extractors/{module}/validation/start?api-version=1.1"
	ExtractionValidationResult     Endpoint = "{project}/extractors/{module}/validation/result/{operation}?api-version=1.1"

	listProjects    Endpoint = "?api-version=1.1"
	listClassifiers Endpoint = "{project}/classifiers?api-version=1.1"
	listExtractors  Endpoint = "{project}/extractors?api-version=1.1"
)

// URL expands an endpoint for the client's project.
func (c *Client) URL(e Endpoint, module, operation string) string {
	return c.urlFor(e, c.projectID, module, operation)
}

func (c *Client) urlFor(e Endpoint, project, module, operation string) string {
	replacer := strings.NewReplacer(
		"{project}", url.PathEscape(project),
		"{module}", url.PathEscape(module),
		"{operation}", url.PathEscape(operation),
	)
	return c.baseURL + replacer.Replace(string(e))
}
