package languages

import (
	"seclens/internal/chunker"

	"github.com/smacker/go-tree-sitter/cpp"
)

func RegisterCPP(r *chunker.Registry) {
	r.Register("cpp", &chunker.Grammar{
		Language: cpp.GetLanguage(),
		Query: `
			(function_definition declarator: (function_declarator declarator: (_) @name)) @chunk
			(class_specifier name: (type_identifier) @name body: (field_declaration_list)) @chunk
			(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @chunk
			(namespace_definition name: (namespace_identifier) @name) @chunk
			(template_declaration (function_definition declarator: (function_declarator declarator: (_) @name))) @chunk
		`,
		Extensions: []string{"cpp", "cc", "cxx", "hpp", "hh", "hxx"},
	})
}
