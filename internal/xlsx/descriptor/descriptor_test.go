package descriptor

import "testing"

type sampleRow struct {
	UnitCode   string `xlsx:"ma_don_vi,identifier,required"`
	DocDate    string `xlsx:"ngay_chung_tu,date,required"`
	Quantity   int64  `xlsx:"so_luong_tap,required"`
	BoxStatus  string `xlsx:"trang_thai_thung,enum=ACTIVE|INACTIVE|UNKNOWN"`
	Note    string `xlsx:"ghi_chu"`
	Skipped string `xlsx:"-"`
}

func TestFor_DiscoversFieldsByTag(t *testing.T) {
	d, err := For(sampleRow{})
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if len(d.Fields) != 5 {
		t.Fatalf("len(Fields) = %d, want 5 (the \"-\" tagged field is skipped)", len(d.Fields))
	}

	f, ok := d.FieldByName("ma_don_vi")
	if !ok {
		t.Fatal("expected field ma_don_vi to be discovered")
	}
	if !f.IsIdentifier {
		t.Error("ma_don_vi should be identifier-shaped via the \"identifier\" tag option")
	}
	if !f.Required {
		t.Error("ma_don_vi should be Required")
	}
}

func TestFor_IsMemoized(t *testing.T) {
	d1, err := For(sampleRow{})
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	d2, err := For(sampleRow{})
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if d1 != d2 {
		t.Error("For should return the same memoized *Descriptor for the same type on repeated calls")
	}
}

func TestFor_IdentifierShapedByNameHint(t *testing.T) {
	type row struct {
		TaxCode string `xlsx:"ma_so_thue"` // no explicit "identifier" option
	}
	d, err := For(row{})
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	f, _ := d.FieldByName("ma_so_thue")
	if !f.IsIdentifier {
		t.Error("a field named with a \"tax\" hint should be identifier-shaped without an explicit tag option")
	}
}

func TestFor_DateShapedFlag(t *testing.T) {
	d, err := For(sampleRow{})
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	f, _ := d.FieldByName("ngay_chung_tu")
	if !f.IsDate {
		t.Error("ngay_chung_tu should be date-shaped")
	}
}

func TestConvert_EmptyReturnsZero(t *testing.T) {
	f := Field{Kind: KindInt64}
	v, err := Convert(f, "")
	if err != nil {
		t.Fatalf("Convert(empty) returned error: %v", err)
	}
	if v != nil {
		t.Errorf("Convert(empty) = %v, want nil", v)
	}
}

func TestConvert_EnumCaseInsensitive(t *testing.T) {
	f := Field{Kind: KindEnum, EnumValues: []string{"ACTIVE", "INACTIVE", "UNKNOWN"}}
	got, err := Convert(f, "active")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got != "ACTIVE" {
		t.Errorf("Convert(%q) = %q, want canonical %q", "active", got, "ACTIVE")
	}
}

func TestConvert_EnumUnknownMember(t *testing.T) {
	f := Field{Kind: KindEnum, EnumValues: []string{"ACTIVE", "INACTIVE"}}
	if _, err := Convert(f, "BOGUS"); err == nil {
		t.Error("Convert with a value outside EnumValues should return an error")
	}
}

func TestConvert_DateRejectsBadFormat(t *testing.T) {
	f := Field{Kind: KindDate}
	if _, err := Convert(f, "15/01/2023"); err == nil {
		t.Error("Convert(date) should reject a non-YYYY-MM-DD value")
	}
	if _, err := Convert(f, "2023-01-15"); err != nil {
		t.Errorf("Convert(date) should accept YYYY-MM-DD, got error: %v", err)
	}
}
