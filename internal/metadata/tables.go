package metadata

import (
	"math/bits"

	"github.com/cklutz/CheckLibraryImport/internal/errors"
)

// tableID numbers the metadata tables (ECMA-335 II.22).
type tableID int

const (
	tblModule                 tableID = 0x00
	tblTypeRef                tableID = 0x01
	tblTypeDef                tableID = 0x02
	tblFieldPtr               tableID = 0x03
	tblField                  tableID = 0x04
	tblMethodPtr              tableID = 0x05
	tblMethodDef              tableID = 0x06
	tblParamPtr               tableID = 0x07
	tblParam                  tableID = 0x08
	tblInterfaceImpl          tableID = 0x09
	tblMemberRef              tableID = 0x0a
	tblConstant               tableID = 0x0b
	tblCustomAttribute        tableID = 0x0c
	tblFieldMarshal           tableID = 0x0d
	tblDeclSecurity           tableID = 0x0e
	tblClassLayout            tableID = 0x0f
	tblFieldLayout            tableID = 0x10
	tblStandAloneSig          tableID = 0x11
	tblEventMap               tableID = 0x12
	tblEventPtr               tableID = 0x13
	tblEvent                  tableID = 0x14
	tblPropertyMap            tableID = 0x15
	tblPropertyPtr            tableID = 0x16
	tblProperty               tableID = 0x17
	tblMethodSemantics        tableID = 0x18
	tblMethodImpl             tableID = 0x19
	tblModuleRef              tableID = 0x1a
	tblTypeSpec               tableID = 0x1b
	tblImplMap                tableID = 0x1c
	tblFieldRVA               tableID = 0x1d
	tblENCLog                 tableID = 0x1e
	tblENCMap                 tableID = 0x1f
	tblAssembly               tableID = 0x20
	tblAssemblyProcessor      tableID = 0x21
	tblAssemblyOS             tableID = 0x22
	tblAssemblyRef            tableID = 0x23
	tblAssemblyRefProcessor   tableID = 0x24
	tblAssemblyRefOS          tableID = 0x25
	tblFile                   tableID = 0x26
	tblExportedType           tableID = 0x27
	tblManifestResource       tableID = 0x28
	tblNestedClass            tableID = 0x29
	tblGenericParam           tableID = 0x2a
	tblMethodSpec             tableID = 0x2b
	tblGenericParamConstraint tableID = 0x2c

	tableMax = 0x2d
)

// colKind classifies a table column for size computation and decoding.
type colKind int

const (
	colUint16 colKind = iota
	colUint32
	colString // #Strings heap index
	colGUID   // #GUID heap index
	colBlob   // #Blob heap index
	colIndex  // simple index into one table
	colCoded  // coded index into a table family
)

// codedKind numbers the coded index families (ECMA-335 II.24.2.6).
type codedKind int

const (
	codedTypeDefOrRef codedKind = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
)

// tblNone marks unused slots in a coded index family.
const tblNone tableID = -1

// codedTables lists the member tables of each coded index family, in tag
// order.
var codedTables = map[codedKind][]tableID{
	codedTypeDefOrRef:    {tblTypeDef, tblTypeRef, tblTypeSpec},
	codedHasConstant:     {tblField, tblParam, tblProperty},
	codedHasCustomAttribute: {
		tblMethodDef, tblField, tblTypeRef, tblTypeDef, tblParam,
		tblInterfaceImpl, tblMemberRef, tblModule, tblDeclSecurity,
		tblProperty, tblEvent, tblStandAloneSig, tblModuleRef, tblTypeSpec,
		tblAssembly, tblAssemblyRef, tblFile, tblExportedType,
		tblManifestResource, tblGenericParam, tblGenericParamConstraint,
		tblMethodSpec,
	},
	codedHasFieldMarshal:     {tblField, tblParam},
	codedHasDeclSecurity:     {tblTypeDef, tblMethodDef, tblAssembly},
	codedMemberRefParent:     {tblTypeDef, tblTypeRef, tblModuleRef, tblMethodDef, tblTypeSpec},
	codedHasSemantics:        {tblEvent, tblProperty},
	codedMethodDefOrRef:      {tblMethodDef, tblMemberRef},
	codedMemberForwarded:     {tblField, tblMethodDef},
	codedImplementation:      {tblFile, tblAssemblyRef, tblExportedType},
	codedCustomAttributeType: {tblNone, tblNone, tblMethodDef, tblMemberRef, tblNone},
	codedResolutionScope:     {tblModule, tblModuleRef, tblAssemblyRef, tblTypeRef},
	codedTypeOrMethodDef:     {tblTypeDef, tblMethodDef},
}

type column struct {
	kind  colKind
	table tableID   // for colIndex
	coded codedKind // for colCoded
}

func u16() column              { return column{kind: colUint16} }
func u32() column              { return column{kind: colUint32} }
func str() column              { return column{kind: colString} }
func guid() column             { return column{kind: colGUID} }
func blob() column             { return column{kind: colBlob} }
func idx(t tableID) column     { return column{kind: colIndex, table: t} }
func coded(c codedKind) column { return column{kind: colCoded, coded: c} }

// schemas describes every standard table's row layout. Unknown (portable
// PDB) tables are rejected before this is consulted.
var schemas = map[tableID][]column{
	tblModule:                 {u16(), str(), guid(), guid(), guid()},
	tblTypeRef:                {coded(codedResolutionScope), str(), str()},
	tblTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), idx(tblField), idx(tblMethodDef)},
	tblFieldPtr:               {idx(tblField)},
	tblField:                  {u16(), str(), blob()},
	tblMethodPtr:              {idx(tblMethodDef)},
	tblMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(tblParam)},
	tblParamPtr:               {idx(tblParam)},
	tblParam:                  {u16(), u16(), str()},
	tblInterfaceImpl:          {idx(tblTypeDef), coded(codedTypeDefOrRef)},
	tblMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	tblConstant:               {u16(), coded(codedHasConstant), blob()},
	tblCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	tblFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	tblDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	tblClassLayout:            {u16(), u32(), idx(tblTypeDef)},
	tblFieldLayout:            {u32(), idx(tblField)},
	tblStandAloneSig:          {blob()},
	tblEventMap:               {idx(tblTypeDef), idx(tblEvent)},
	tblEventPtr:               {idx(tblEvent)},
	tblEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	tblPropertyMap:            {idx(tblTypeDef), idx(tblProperty)},
	tblPropertyPtr:            {idx(tblProperty)},
	tblProperty:               {u16(), str(), blob()},
	tblMethodSemantics:        {u16(), idx(tblMethodDef), coded(codedHasSemantics)},
	tblMethodImpl:             {idx(tblTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	tblModuleRef:              {str()},
	tblTypeSpec:               {blob()},
	tblImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(tblModuleRef)},
	tblFieldRVA:               {u32(), idx(tblField)},
	tblENCLog:                 {u32(), u32()},
	tblENCMap:                 {u32()},
	tblAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	tblAssemblyProcessor:      {u32()},
	tblAssemblyOS:             {u32(), u32(), u32()},
	tblAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	tblAssemblyRefProcessor:   {u32(), idx(tblAssemblyRef)},
	tblAssemblyRefOS:          {u32(), u32(), u32(), idx(tblAssemblyRef)},
	tblFile:                   {u32(), str(), blob()},
	tblExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	tblManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	tblNestedClass:            {idx(tblTypeDef), idx(tblTypeDef)},
	tblGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	tblMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	tblGenericParamConstraint: {idx(tblGenericParam), coded(codedTypeDefOrRef)},
}

// maxRowCount rejects corrupt row counts before they turn into allocations.
const maxRowCount = 1 << 24

// metadataReader decodes the physical metadata of one managed image.
type metadataReader struct {
	heapSizes byte
	rowCounts [tableMax]uint32
	rows      map[tableID][]byte
	rowSizes  map[tableID]int
	strings   []byte
}

// parseMetadata decodes a raw metadata root (the "BSJB" blob).
func parseMetadata(blob []byte) (*metadataReader, error) {
	if len(blob) < 20 || leUint32(blob) != 0x424a5342 {
		return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "bad metadata signature")
	}

	verLen := leUint32(blob[12:])
	streamsOff := 16 + int(verLen) + 4 // version string, then flags+count
	if verLen > 256 || streamsOff > len(blob) {
		return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "bad version string length")
	}
	streamCount := int(leUint16(blob[16+verLen+2:]))

	var tables, strs []byte
	off := streamsOff
	for i := 0; i < streamCount; i++ {
		if off+8 > len(blob) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "truncated stream headers")
		}
		sOff := leUint32(blob[off:])
		sSize := leUint32(blob[off+4:])
		nameStart := off + 8
		nameEnd := nameStart
		for nameEnd < len(blob) && blob[nameEnd] != 0 {
			nameEnd++
		}
		if nameEnd >= len(blob) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "unterminated stream name")
		}
		name := string(blob[nameStart:nameEnd])
		// Name is null-terminated, padded to 4 bytes.
		off = nameStart + (nameEnd-nameStart+1+3)&^3

		if uint64(sOff)+uint64(sSize) > uint64(len(blob)) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "stream %s out of bounds", name)
		}
		switch name {
		case "#~":
			tables = blob[sOff : sOff+sSize]
		case "#-":
			return nil, errors.Newf(errors.ErrCodeUnsupportedTable, "uncompressed #- stream not supported")
		case "#Strings":
			strs = blob[sOff : sOff+sSize]
		}
	}
	if tables == nil || strs == nil {
		return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "missing #~ or #Strings stream")
	}

	return parseTables(tables, strs)
}

// parseTables decodes the #~ stream: header, row counts, then the packed
// rows of every present table in index order.
func parseTables(stream, strs []byte) (*metadataReader, error) {
	if len(stream) < 24 {
		return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "truncated tables stream")
	}

	m := &metadataReader{
		heapSizes: stream[6],
		rows:      make(map[tableID][]byte),
		rowSizes:  make(map[tableID]int),
		strings:   strs,
	}

	valid := uint64(leUint32(stream[8:])) | uint64(leUint32(stream[12:]))<<32

	if hi := valid >> tableMax; hi != 0 {
		return nil, errors.Newf(errors.ErrCodeUnsupportedTable,
			"unsupported metadata table 0x%x present", tableMax+bits.TrailingZeros64(hi))
	}

	off := 24
	for t := tableID(0); t < tableMax; t++ {
		if valid&(1<<uint(t)) == 0 {
			continue
		}
		if off+4 > len(stream) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata, "truncated row counts")
		}
		count := leUint32(stream[off:])
		if count > maxRowCount {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata,
				"table 0x%x: implausible row count %d", int(t), count)
		}
		m.rowCounts[t] = count
		off += 4
	}

	for t := tableID(0); t < tableMax; t++ {
		count := m.rowCounts[t]
		if count == 0 {
			continue
		}
		size := m.computeRowSize(t)
		total := int(count) * size
		if off+total > len(stream) {
			return nil, errors.Newf(errors.ErrCodeCorruptMetadata,
				"table 0x%x: rows extend past stream end", int(t))
		}
		m.rows[t] = stream[off : off+total]
		m.rowSizes[t] = size
		off += total
	}

	return m, nil
}

// computeRowSize derives a table's physical row size from its schema and
// the current heap/table index widths.
func (m *metadataReader) computeRowSize(t tableID) int {
	size := 0
	for _, col := range schemas[t] {
		size += m.colSize(col)
	}
	return size
}

func (m *metadataReader) colSize(col column) int {
	switch col.kind {
	case colUint16:
		return 2
	case colUint32:
		return 4
	case colString:
		if m.heapSizes&0x01 != 0 {
			return 4
		}
		return 2
	case colGUID:
		if m.heapSizes&0x02 != 0 {
			return 4
		}
		return 2
	case colBlob:
		if m.heapSizes&0x04 != 0 {
			return 4
		}
		return 2
	case colIndex:
		if m.rowCounts[col.table] >= 1<<16 {
			return 4
		}
		return 2
	case colCoded:
		tables := codedTables[col.coded]
		tagBits := bits.Len(uint(len(tables) - 1))
		var max uint32
		for _, t := range tables {
			if t != tblNone && m.rowCounts[t] > max {
				max = m.rowCounts[t]
			}
		}
		if max >= 1<<(16-uint(tagBits)) {
			return 4
		}
		return 2
	default:
		return 0
	}
}

// rowCount returns a table's row count.
func (m *metadataReader) rowCount(t tableID) uint32 {
	return m.rowCounts[t]
}

// cell reads one column value of a table row (0-based row index).
func (m *metadataReader) cell(t tableID, row uint32, col int) uint32 {
	data := m.rows[t]
	off := int(row) * m.rowSizes[t]
	for i := 0; i < col; i++ {
		off += m.colSize(schemas[t][i])
	}
	if m.colSize(schemas[t][col]) == 2 {
		return uint32(leUint16(data[off:]))
	}
	return leUint32(data[off:])
}
