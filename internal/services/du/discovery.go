package du

import (
	"context"
	"sort"
	"strings"
)

// Project is one project visible to the client credentials.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Classifier is a classifier deployed in a project.
type Classifier struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	DocumentTypeIDs []string `json:"documentTypeIds"`
}

// Extractor is an extractor deployed in a project.
type Extractor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	DocumentTypeID string `json:"documentTypeId"`
}

// Projects lists projects; predefined projects (all-zero prefixed ids) come
// first, the rest by name.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Projects []Project `json:"projects"`
	}
	if err := c.GetJSON(ctx, c.urlFor(listProjects, "", "", ""), &resp); err != nil {
		return nil, err
	}
	sort.SliceStable(resp.Projects, func(i, j int) bool {
		pi, pj := predefined(resp.Projects[i].ID), predefined(resp.Projects[j].ID)
		if pi != pj {
			return pi
		}
		return strings.ToLower(resp.Projects[i].Name) < strings.ToLower(resp.Projects[j].Name)
	})
	return resp.Projects, nil
}

// Classifiers lists classifiers in project (the client's project when empty).
func (c *Client) Classifiers(ctx context.Context, project string) ([]Classifier, error) {
	var resp struct {
		Classifiers []Classifier `json:"classifiers"`
	}
	if err := c.GetJSON(ctx, c.urlFor(listClassifiers, c.projectOr(project), "", ""), &resp); err != nil {
		return nil, err
	}
	sort.SliceStable(resp.Classifiers, func(i, j int) bool {
		return strings.ToLower(resp.Classifiers[i].Name) < strings.ToLower(resp.Classifiers[j].Name)
	})
	return resp.Classifiers, nil
}

// Extractors lists extractors in project (the client's project when empty).
func (c *Client) Extractors(ctx context.Context, project string) ([]Extractor, error) {
	var resp struct {
		Extractors []Extractor `json:"extractors"`
	}
	if err := c.GetJSON(ctx, c.urlFor(listExtractors, c.projectOr(project), "", ""), &resp); err != nil {
		return nil, err
	}
	sort.SliceStable(resp.Extractors, func(i, j int) bool {
		return strings.ToLower(resp.Extractors[i].Name) < strings.ToLower(resp.Extractors[j].Name)
	})
	return resp.Extractors, nil
}

func (c *Client) projectOr(project string) string {
	if project = strings.TrimSpace(project); project != "" {
		return project
	}
	return c.projectID
}

func predefined(id string) bool {
	return strings.HasPrefix(id, "00000000-0000-0000-0000-00000000000")
}
