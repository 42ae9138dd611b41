package services

// FieldType enumerates the supported field kinds.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldParagraph    FieldType = "paragraph"
	FieldEmail        FieldType = "email"
	FieldNumber       FieldType = "number"
	FieldDate         FieldType = "date"
	FieldTime         FieldType = "time"
	FieldRadio        FieldType = "radio"
	FieldSelect       FieldType = "select"
	FieldImageSelect  FieldType = "image_select"
	FieldCheckbox     FieldType = "checkbox"
	FieldYesNo        FieldType = "yes_no"
	FieldStarRating   FieldType = "star_rating"
	FieldOpinionScale FieldType = "opinion_scale"
	FieldMatrix       FieldType = "matrix"
	FieldRanking      FieldType = "ranking"
	FieldFile         FieldType = "file"
	FieldImage        FieldType = "image"
	FieldDrawing      FieldType = "drawing"
	FieldSignature    FieldType = "signature"
	FieldAddress      FieldType = "address"
	FieldTerms        FieldType = "terms"
	FieldBanner       FieldType = "banner"
)

// ContributionRule says how a field type turns an answer into points.
type ContributionRule int

const (
	// RuleNone marks types that never contribute to the total score.
	RuleNone ContributionRule = iota
	// RuleMultiSelect sums the numeric values of every selected option.
	RuleMultiSelect
	// RuleBinary picks options[0] on an affirmative answer, options[1] otherwise.
	RuleBinary
	// RuleSingleSelect adds the numeric value of the matched option.
	RuleSingleSelect
	// RuleDirect adds the answer itself, parsed as an integer.
	RuleDirect
)

var contributionRules = map[FieldType]ContributionRule{
	FieldCheckbox:     RuleMultiSelect,
	FieldYesNo:        RuleBinary,
	FieldRadio:        RuleSingleSelect,
	FieldSelect:       RuleSingleSelect,
	FieldImageSelect:  RuleSingleSelect,
	FieldStarRating:   RuleDirect,
	FieldOpinionScale: RuleDirect,
	FieldNumber:       RuleDirect,
}

// RuleFor returns the contribution rule for a field type. Types absent from
// the table (free text, dates, uploads, banners, ...) return RuleNone and
// never score regardless of the field's HasNumericValues flag.
func RuleFor(t FieldType) ContributionRule {
	return contributionRules[t]
}

// HasOptions reports whether a field type carries an options list.
func HasOptions(t FieldType) bool {
	switch t {
	case FieldRadio, FieldSelect, FieldImageSelect, FieldCheckbox, FieldYesNo:
		return true
	}
	return false
}

// KnownFieldType reports whether t is part of the catalog.
func KnownFieldType(t FieldType) bool {
	switch t {
	case FieldText, FieldParagraph, FieldEmail, FieldNumber, FieldDate, FieldTime,
		FieldRadio, FieldSelect, FieldImageSelect, FieldCheckbox, FieldYesNo,
		FieldStarRating, FieldOpinionScale, FieldMatrix, FieldRanking,
		FieldFile, FieldImage, FieldDrawing, FieldSignature, FieldAddress,
		FieldTerms, FieldBanner:
		return true
	}
	return false
}
