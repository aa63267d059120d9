// Package validate submits classification and extraction results to the
// service's human review queue and applies the reviewed values.
//
// Extraction review can be deferred: the request is submitted, the unit is
// parked at extraction-validation-submitted, and Resume later collects the
// result (see the sweep command).
package validate
