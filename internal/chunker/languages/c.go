package languages

import (
	"seclens/internal/chunker"

	"github.com/smacker/go-tree-sitter/c"
)

func RegisterC(r *chunker.Registry) {
	r.Register("c", &chunker.Grammar{
		Language: c.GetLanguage(),
		Query: `
			(function_definition declarator: (function_declarator declarator: (identifier) @name)) @chunk
			(function_definition declarator: (pointer_declarator declarator: (function_declarator declarator: (identifier) @name))) @chunk
			(struct_specifier name: (type_identifier) @name body: (field_declaration_list)) @chunk
			(enum_specifier name: (type_identifier) @name body: (enumerator_list)) @chunk
			(type_definition declarator: (type_identifier) @name) @chunk
		`,
		Extensions: []string{"c", "h"},
	})
}
