package cvat

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// translation pairs library error signatures with their localized messages.
// The library reports messages in Chinese; patterns are matched as substrings
// in order and the first hit wins.
type translation struct {
	patterns []string
	messages []string
}

var translations = map[int64]translation{
	0:     {[]string{"正常退出"}, []string{"정상 종료"}},
	3:     {[]string{"窗口画面为空"}, []string{"창 화면이 비어있음"}},
	5:     {[]string{"原神小地图区域为空"}, []string{"원신 미니맵 영역이 비어있음"}},
	8:     {[]string{"未能在UID区域检测到有效UID"}, []string{"UID 영역에서 유효한 UID를 감지하지 못함"}},
	9:     {[]string{"提取小箭头特征误差过大"}, []string{"작은 화살표 특징 추출 오차가 너무 큼"}},
	10:    {[]string{"无效句柄或指定句柄所指向窗口不存在"}, []string{"잘못된 핸들, 또는 지정된 핸들이 가리키는 창이 존재하지 않습니다."}},
	11:    {[]string{"无效句柄或指定句柄所指向窗口不存在", "原神角色小箭头区域为空"}, []string{"유효하지 않은 핸들 또는 지정된 창이 존재하지 않음", "원신 캐릭터 화살표 영역이 비어있음"}},
	12:    {[]string{"窗口句柄失效"}, []string{"창 핸들이 유효하지 않음"}},
	14:    {[]string{"窗口画面大小小于480x360，无法使用", "窗口画面小于裁剪框，截图失败"}, []string{"창 크기가 480x360보다 작아 사용할 수 없음", "창이 자르기 영역보다 작아 스크린샷 실패"}},
	101:   {[]string{"读取图片失败，图片为空", "未能找到原神窗口句柄"}, []string{"이미지 읽기 실패, 이미지가 비어있음", "원신 창 핸들을 찾을 수 없음"}},
	103:   {[]string{"获取原神画面失败"}, []string{"원신 화면 가져오기 실패"}},
	251:   {[]string{"路径缓存区为空指针或是路径缓存区大小为小于1"}, []string{"경로 버퍼가 비어있거나 크기가 1보다 작음"}},
	252:   {[]string{"画面为空", "保存画面失败，请检查文件路径是否合法"}, []string{"화면이 비어있음", "화면 저장 실패, 파일 경로가 올바른지 확인하세요"}},
	291:   {[]string{"缓存区为空指针或是缓存区大小为小于1"}, []string{"버퍼가 비어있거나 크기가 1보다 작음"}},
	292:   {[]string{"缓存区大小不足"}, []string{"버퍼 크기 부족"}},
	433:   {[]string{"截图失败"}, []string{"스크린샷 실패"}},
	601:   {[]string{"获取神瞳失败，未确定原因"}, []string{"신의 눈 가져오기 실패, 원인 불명"}},
	1001:  {[]string{"获取所有信息时，没有识别到paimon", "获取坐标时，没有识别到paimon"}, []string{"모든 정보를 가져올 때 페이몬 아이콘을 인식하지 못함", "좌표를 가져올 때 페이몬 아이콘을 인식하지 못함"}},
	2001:  {[]string{"获取角色朝向时，没有识别到paimon"}, []string{"캐릭터 방향을 가져올 때 페이몬 아이콘을 인식하지 못함"}},
	3001:  {[]string{"获取视角朝向时，没有识别到paimon"}, []string{"시점 방향을 가져올 때 페이몬 아이콘을 인식하지 못함"}},
	3006:  {[]string{"获取视角的误差过大"}, []string{"시점 오차가 너무 큼"}},
	4001:  {[]string{"获取神瞳时，没有识别到paimon"}, []string{"신의 눈을 가져올 때 페이몬 아이콘을 인식하지 못함"}},
	9001:  {[]string{"传入图片通道不对应"}, []string{"입력된 이미지 채널이 일치하지 않음"}},
	9002:  {[]string{"传入图片为空"}, []string{"입력된 이미지가 비어있음"}},
	10001: {[]string{"重新初始化捕获池"}, []string{"캡처 풀 재초기화"}},
	10002: {[]string{"获取新的画面失败"}, []string{"새 화면 가져오기 실패"}},
	10003: {[]string{"句柄为空", "获取下一帧画面失败"}, []string{"핸들이 비어있음", "다음 프레임 가져오기 실패"}},
	10004: {[]string{"未能获取到新一帧画面"}, []string{"새 프레임을 가져올 수 없음"}},
	10005: {[]string{"未能从GPU拷贝画面到CPU"}, []string{"GPU에서 CPU로 화면 복사 실패"}},
	10006: {[]string{"设置的句柄为空", "指针指向为空"}, []string{"설정된 핸들이 비어있음", "포인터가 비어있음"}},
	10013: {[]string{"未能捕获窗口"}, []string{"창을 캡처할 수 없음"}},
	40101: {[]string{"Bitblt模式下检测派蒙失败"}, []string{"Bitblt 모드에서 페이몬 아이콘 감지 실패"}},
	40102: {[]string{"Bitblt模式下没有检测到派蒙"}, []string{"Bitblt 모드에서 페이몬 아이콘이 감지되지 않음"}},
	40105: {[]string{"Bitblt模式下计算小地图区域失败"}, []string{"Bitblt 모드에서 미니맵 영역 계산 실패"}},
	40201: {[]string{"DirectX模式下检测派蒙失败"}, []string{"DirectX 모드에서 페이몬 아이콘 감지 실패"}},
	40202: {[]string{"DirectX模式下没有检测到派蒙"}, []string{"DirectX 모드에서 페이몬 아이콘이 감지되지 않음"}},
	40205: {[]string{"DirectX模式下计算小地图区域失败"}, []string{"DirectX 모드에서 미니맵 영역 계산 실패"}},
}

// Translate returns the localized message for a library error code, or msg
// unchanged when neither the code nor any of its signatures match.
func Translate(code int64, msg string) string {
	t, ok := translations[code]
	if !ok {
		return msg
	}
	for i, pattern := range t.patterns {
		if strings.Contains(msg, pattern) {
			return t.messages[i]
		}
	}
	return msg
}

type errorEntry struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

type errorDocument struct {
	ErrorList []errorEntry `json:"errorList"`
}

// TranslateErrorJSON rewrites every entry of the library's
// {"errorList":[{"code":..,"msg":..}]} document through Translate. Input
// that is not such a document is returned as is.
func TranslateErrorJSON(raw string) string {
	if !gjson.Valid(raw) {
		return raw
	}
	list := gjson.Get(raw, "errorList")
	if !list.IsArray() {
		return raw
	}
	doc := errorDocument{ErrorList: []errorEntry{}}
	list.ForEach(func(_, entry gjson.Result) bool {
		code := entry.Get("code").Int()
		doc.ErrorList = append(doc.ErrorList, errorEntry{
			Code: code,
			Msg:  Translate(code, entry.Get("msg").String()),
		})
		return true
	})
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return string(out)
}
