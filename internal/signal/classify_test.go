package signal

import "testing"

func TestClassifyURL(t *testing.T) {
	cats := ClassifyString("https://api.example.com/oauth/accessToken")
	if !containsCat(cats, CatURL) {
		t.Errorf("expected url category, got %v", cats)
	}
	if !containsCat(cats, CatAuth) {
		t.Errorf("expected auth category for oauth/accessToken, got %v", cats)
	}
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		cat  string
		want []string
	}{
		{CatEncryption, []string{"AES/CBC/PKCS5Padding", "SHA-256", "HmacSHA1", "decrypt", "SecretKeySpec", "RSA"}},
		{CatAuth, []string{"password", "Bearer token", "jwt", "apikey", "Authorization"}},
		{CatNet, []string{"GET", "socket connection"}},
		{CatFileExt, []string{"classes.dex", "payload.jar", "config.json"}},
		{CatHost, []string{"192.168.1.1:8080"}},
		{CatSIM, []string{"getSimOperator", "IMEI", "sim_serial"}},
		{CatSMS, []string{"content://sms/inbox", "pdus", "sendTextMessage", "SMS"}},
		{CatContacts, []string{"content://call_log/calls", "read_contacts"}},
		{CatLocation, []string{"latitude", "requestLocationUpdates", "GPS fix"}},
		{CatDeviceInfo, []string{"android_id", "getInstalledPackages", "advertising_id"}},
		{CatCamera, []string{"android.permission.CAMERA", "takePicture"}},
		{CatWebView, []string{"addJavascriptInterface", "javascript:void(0)"}},
		{CatClipboard, []string{"clipboard"}},
		{CatRoot, []string{"/system/xbin/su", "com.topjohnwu.magisk", "test-keys"}},
		{CatEmulator, []string{"goldfish", "generic_x86", "/dev/socket/qemud"}},
		{CatDynLoad, []string{"dalvik.system.DexClassLoader"}},
		{CatExec, []string{"/system/bin/sh", "chmod 755 "}},
		{CatNative, []string{"loadLibrary", "JNI_OnLoad"}},
	}
	for _, tt := range tests {
		for _, s := range tt.want {
			cats := ClassifyString(s)
			if !containsCat(cats, tt.cat) {
				t.Errorf("expected %s category for %q, got %v", tt.cat, s, cats)
			}
		}
	}
}

func TestClassifyFalsePositives(t *testing.T) {
	tests := []struct {
		cat string
		s   string
	}{
		{CatEncryption, "skipTraversal"},
		{CatEncryption, "Instead of"},
		{CatAuth, "showPasswordToggle"},
		{CatSIM, "similar results"},
		{CatLocation, "layout_gravity"},
		{CatSMS, "smsCount"},
	}
	for _, tt := range tests {
		if cats := ClassifyString(tt.s); containsCat(cats, tt.cat) {
			t.Errorf("should NOT be %s: %q, got %v", tt.cat, tt.s, cats)
		}
	}
}

func TestClassifyBase64Key(t *testing.T) {
	cats := ClassifyString("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/==")
	if !containsCat(cats, CatBase64Key) {
		t.Errorf("expected base64 key, got %v", cats)
	}
	if cats := ClassifyString("getApplicationContextValue"); containsCat(cats, CatBase64Key) {
		t.Errorf("camelCase identifier classified as key: %v", cats)
	}
}

func TestClassifyMundane(t *testing.T) {
	for _, s := range []string{"Index out of range", "onCreate", "", "x"} {
		if cats := ClassifyString(s); len(cats) != 0 {
			t.Errorf("expected no categories for %q, got %v", s, cats)
		}
	}
}

func TestClassifyCallee(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"Landroid/telephony/SmsManager;->sendTextMessage(Ljava/lang/String;Ljava/lang/String;Ljava/lang/String;Landroid/app/PendingIntent;Landroid/app/PendingIntent;)V", CatSMS},
		{"Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;", CatDeviceInfo},
		{"Landroid/telephony/TelephonyManager;->getSimOperator()Ljava/lang/String;", CatSIM},
		{"Ljavax/crypto/Cipher;->getInstance(Ljava/lang/String;)Ljavax/crypto/Cipher;", CatEncryption},
		{"Ljava/lang/Class;->forName(Ljava/lang/String;)Ljava/lang/Class;", CatReflection},
		{"Ljava/lang/reflect/Method;->invoke(Ljava/lang/Object;[Ljava/lang/Object;)Ljava/lang/Object;", CatReflection},
		{"Ldalvik/system/DexClassLoader;-><init>(Ljava/lang/String;Ljava/lang/String;Ljava/lang/String;Ljava/lang/ClassLoader;)V", CatDynLoad},
		{"Ljava/lang/Runtime;->exec(Ljava/lang/String;)Ljava/lang/Process;", CatExec},
		{"Ljava/lang/System;->loadLibrary(Ljava/lang/String;)V", CatNative},
		{"Ljava/lang/System;->load(Ljava/lang/String;)V", CatNative},
		{"Ljava/lang/System;->currentTimeMillis()J", ""},
		{"Landroid/webkit/WebView;->loadUrl(Ljava/lang/String;)V", CatWebView},
		{"Ljava/lang/Object;-><init>()V", ""},
		{"method@12", ""},
	}
	for _, tt := range tests {
		if got := ClassifyCallee(tt.target); got != tt.want {
			t.Errorf("ClassifyCallee(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	tests := []struct {
		cats []string
		want string
	}{
		{nil, SeverityLow},
		{[]string{CatNet, CatFileExt}, SeverityLow},
		{[]string{CatNet, CatURL}, SeverityMedium},
		{[]string{CatURL, CatSMS, CatNet}, SeverityHigh},
	}
	for _, tt := range tests {
		if got := MaxSeverity(tt.cats); got != tt.want {
			t.Errorf("MaxSeverity(%v) = %s, want %s", tt.cats, got, tt.want)
		}
	}
}
