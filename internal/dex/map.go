package dex

import (
	"fmt"

	"undex/internal/dexfmt"
)

// ItemType is a map_list entry type code.
type ItemType uint16

const (
	TypeHeaderItem               ItemType = 0x0000
	TypeStringIDItem             ItemType = 0x0001
	TypeTypeIDItem               ItemType = 0x0002
	TypeProtoIDItem              ItemType = 0x0003
	TypeFieldIDItem              ItemType = 0x0004
	TypeMethodIDItem             ItemType = 0x0005
	TypeClassDefItem             ItemType = 0x0006
	TypeCallSiteIDItem           ItemType = 0x0007
	TypeMethodHandleItem         ItemType = 0x0008
	TypeMapList                  ItemType = 0x1000
	TypeTypeList                 ItemType = 0x1001
	TypeAnnotationSetRefList     ItemType = 0x1002
	TypeAnnotationSetItem        ItemType = 0x1003
	TypeClassDataItem            ItemType = 0x2000
	TypeCodeItem                 ItemType = 0x2001
	TypeStringDataItem           ItemType = 0x2002
	TypeDebugInfoItem            ItemType = 0x2003
	TypeAnnotationItem           ItemType = 0x2004
	TypeEncodedArrayItem         ItemType = 0x2005
	TypeAnnotationsDirectoryItem ItemType = 0x2006
	TypeHiddenapiClassDataItem   ItemType = 0xf000
)

var itemTypeNames = map[ItemType]string{
	TypeHeaderItem:               "header_item",
	TypeStringIDItem:             "string_id_item",
	TypeTypeIDItem:               "type_id_item",
	TypeProtoIDItem:              "proto_id_item",
	TypeFieldIDItem:              "field_id_item",
	TypeMethodIDItem:             "method_id_item",
	TypeClassDefItem:             "class_def_item",
	TypeCallSiteIDItem:           "call_site_id_item",
	TypeMethodHandleItem:         "method_handle_item",
	TypeMapList:                  "map_list",
	TypeTypeList:                 "type_list",
	TypeAnnotationSetRefList:     "annotation_set_ref_list",
	TypeAnnotationSetItem:        "annotation_set_item",
	TypeClassDataItem:            "class_data_item",
	TypeCodeItem:                 "code_item",
	TypeStringDataItem:           "string_data_item",
	TypeDebugInfoItem:            "debug_info_item",
	TypeAnnotationItem:           "annotation_item",
	TypeEncodedArrayItem:         "encoded_array_item",
	TypeAnnotationsDirectoryItem: "annotations_directory_item",
	TypeHiddenapiClassDataItem:   "hiddenapi_class_data_item",
}

func (t ItemType) String() string {
	if s, ok := itemTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(0x%04x)", uint16(t))
}

// MapItem is one entry of the map_list.
type MapItem struct {
	Type ItemType `json:"type"`
	Size uint32   `json:"size"`
	Off  uint32   `json:"off"`
}

const mapItemSize = 12

// parseMapList reads the map_list at off.
// Layout: uint32 size, then size × {uint16 type, uint16 unused, uint32 size, uint32 offset}.
func parseMapList(buf dexfmt.Buffer, off uint32) ([]MapItem, error) {
	s := dexfmt.NewStream(buf, int(off))
	n, err := s.U32()
	if err != nil {
		return nil, fmt.Errorf("map_list: %w", err)
	}
	if uint64(n)*mapItemSize > uint64(len(buf)) {
		return nil, dexfmt.Errorf(dexfmt.KindTruncated, int64(off), "map_list declares %d items", n)
	}
	items := make([]MapItem, 0, n)
	for i := uint32(0); i < n; i++ {
		typ, err := s.U16()
		if err != nil {
			return nil, fmt.Errorf("map_list item %d: %w", i, err)
		}
		if err := s.Skip(2); err != nil {
			return nil, fmt.Errorf("map_list item %d: %w", i, err)
		}
		size, err := s.U32()
		if err != nil {
			return nil, fmt.Errorf("map_list item %d: %w", i, err)
		}
		itemOff, err := s.U32()
		if err != nil {
			return nil, fmt.Errorf("map_list item %d: %w", i, err)
		}
		items = append(items, MapItem{Type: ItemType(typ), Size: size, Off: itemOff})
	}
	return items, nil
}

// Find returns the map entry of type t.
func (c *Container) Find(t ItemType) (MapItem, bool) {
	for _, it := range c.Map {
		if it.Type == t {
			return it, true
		}
	}
	return MapItem{}, false
}

// checkMapAgrees verifies that the id sections named in both the header and
// the map carry the same size and offset.
func checkMapAgrees(h *Header, items []MapItem) error {
	want := map[ItemType]Section{
		TypeStringIDItem: h.StringIDs,
		TypeTypeIDItem:   h.TypeIDs,
		TypeProtoIDItem:  h.ProtoIDs,
		TypeFieldIDItem:  h.FieldIDs,
		TypeMethodIDItem: h.MethodIDs,
		TypeClassDefItem: h.ClassDefs,
	}
	for _, it := range items {
		sec, ok := want[it.Type]
		if !ok {
			continue
		}
		if it.Size != sec.Size || (it.Size > 0 && it.Off != sec.Off) {
			return dexfmt.Errorf(dexfmt.KindFormat, int64(h.MapOff),
				"map entry %s (size %d, off 0x%x) disagrees with header (size %d, off 0x%x)",
				it.Type, it.Size, it.Off, sec.Size, sec.Off)
		}
	}
	return nil
}
