// Package sqlfilter renders bitacora.Filter and organica keys as SQL
// predicates for the relational stores. Placeholders are dialect specific.
package sqlfilter

import (
	"fmt"
	"strings"

	"github.com/warp/afectaciones-engine/bitacora"
	"github.com/warp/afectaciones-engine/organica"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

func Question(int) string { return "?" }

func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// AuditColumns is the select list matching ScanAfectacion order in each store.
const AuditColumns = `afectacion_id, folio, entidad, anio, quincena, org_nivel,
	org0, org1, org2, org3, accion, resultado, mensaje, usuario, app_name, ip, created_at`

type builder struct {
	ph    Placeholder
	conds []string
	args  []any
}

func (b *builder) eq(col string, v any) {
	b.args = append(b.args, v)
	b.conds = append(b.conds, fmt.Sprintf("%s = %s", col, b.ph(len(b.args))))
}

// Where renders f as a WHERE clause (empty when f selects everything), an
// ORDER BY newest first and an optional LIMIT.
func Where(f bitacora.Filter, ph Placeholder) (string, []any) {
	b := &builder{ph: ph}
	if f.Entidad != "" {
		b.eq("entidad", f.Entidad)
	}
	if f.Anio != 0 {
		b.eq("anio", f.Anio)
	}
	if f.Quincena != 0 {
		b.eq("quincena", f.Quincena)
	}
	if f.Usuario != "" {
		b.eq("usuario", f.Usuario)
	}
	if f.Accion != "" {
		b.eq("accion", string(f.Accion))
	}
	if len(f.Acciones) > 0 {
		marks := make([]string, len(f.Acciones))
		for i, a := range f.Acciones {
			b.args = append(b.args, string(a))
			marks[i] = ph(len(b.args))
		}
		b.conds = append(b.conds, "accion IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Unidad != nil {
		for l, code := range f.Unidad.Codes() {
			b.eq(fmt.Sprintf("org%d", l), code)
		}
	}
	if f.Rama != nil {
		b.eq("org0", f.Rama.Org0)
		b.eq("org1", f.Rama.Org1)
	}
	if f.Resultado != "" {
		b.eq("resultado", string(f.Resultado))
	}

	var sb strings.Builder
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, afectacion_id DESC")
	if f.Limit > 0 {
		b.args = append(b.args, f.Limit)
		sb.WriteString(" LIMIT " + ph(len(b.args)))
	}
	return sb.String(), b.args
}

// KeyColumns returns org0..org{l}.
func KeyColumns(l organica.Level) []string {
	cols := make([]string, 0, int(l)+1)
	for i := organica.Level0; i <= l; i++ {
		cols = append(cols, fmt.Sprintf("org%d", int(i)))
	}
	return cols
}

// KeyMatch renders "org0 = ? AND ... org{l} = ?" for key truncated to l.
func KeyMatch(key organica.Key, l organica.Level, ph Placeholder, offset int) (string, []any) {
	cols := KeyColumns(l)
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = key.Code(organica.Level(i))
		conds[i] = fmt.Sprintf("%s = %s", c, ph(offset+i+1))
	}
	return strings.Join(conds, " AND "), args
}
