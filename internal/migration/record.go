package migration

// CaseDetailRow is the target record type the streaming reader binds each
// data row onto. The "xlsx" tag carries the external column name, then
// comma-separated options (identifier, date, required, enum=A|B) consumed by
// the descriptor builder. The rule tables the validator statements are
// generated from live next to the SQL in store.
type CaseDetailRow struct {
	MaDonVi       string `xlsx:"ma_don_vi,identifier,required"`        // unit code
	MaThung       string `xlsx:"ma_thung,identifier,required"`         // box code
	MaKho         string `xlsx:"ma_kho,identifier,required"`           // warehouse code
	MaLoaiTaiLieu string `xlsx:"ma_loai_tai_lieu,identifier,required"` // doc type code
	MaThoiHan     string `xlsx:"ma_thoi_han_luu_tru,identifier"`       // retention period code

	NgayChungTu string `xlsx:"ngay_chung_tu,date,required"` // doc date
	NgayDenHan  string `xlsx:"ngay_den_han,date"`           // due date
	NgayBanGiao string `xlsx:"ngay_ban_giao,date"`          // handover date

	SoLuongTap int64 `xlsx:"so_luong_tap,required"` // quantity

	TrangThaiHoSo  string `xlsx:"trang_thai_ho_so"` // case status
	TrangThaiThung string `xlsx:"trang_thai_thung"` // box status
	TinhTrangThung string `xlsx:"tinh_trang_thung"` // box state

	KhuVuc    string `xlsx:"khu_vuc"`     // location area
	ViTriHang string `xlsx:"vi_tri_hang"` // location row
	ViTriCot  string `xlsx:"vi_tri_cot"`  // location column

	GhiChu string `xlsx:"ghi_chu"` // free-text note, not part of the business key
}
