// Package i18n provides the message catalog used to render audit labels and
// user-facing errors.
//
// Messages are grouped by domain ("Audit", "messages"). Built-in English
// defaults can be overridden by YAML files named <domain>.<locale>.yaml, with
// nested keys joined by dots:
//
//	# messages.fr.yaml
//	audit:
//	  DATABASE: Base de données
//	  invalid_category: "Type invalide : %type%. Types autorisés : %allowed%"
//
// Catalog implements audit.Translator.
package i18n
